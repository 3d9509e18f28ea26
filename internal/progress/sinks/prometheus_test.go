package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/project-aether/crawler/internal/progress"
)

func event(jobID string, stage progress.Stage) progress.Event {
	return progress.Event{
		JobID: jobID,
		TS:    time.Now().UTC(),
		Stage: stage,
	}
}

func TestPrometheusSinkJobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event("job-1", progress.StageJobStart),
		event("job-2", progress.StageJobStart),
	}))

	require.Equal(t, float64(2), testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.jobsRunning))

	done := event("job-1", progress.StageJobDone)
	done.Dur = 3 * time.Second
	failed := event("job-2", progress.StageJobFailed)
	failed.Dur = time.Second
	require.NoError(t, sink.Consume(ctx, []progress.Event{done, failed}))

	require.Equal(t, float64(0), testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsFinished.WithLabelValues("completed")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsFinished.WithLabelValues("failed")))
}

func TestPrometheusSinkDeduplicatesTransitions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event("job-1", progress.StageJobStart),
		event("job-1", progress.StageJobStart),
	}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		event("job-1", progress.StageJobDone),
		event("job-1", progress.StageJobDone),
	}))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.jobsRunning))
}

func TestPrometheusSinkPageEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ok := event("job-1", progress.StagePageDone)
	ok.StatusClass = progress.Status2xx
	ok.Dur = 80 * time.Millisecond
	clientErr := event("job-1", progress.StagePageDone)
	clientErr.StatusClass = progress.Status4xx

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		ok, ok, clientErr,
		event("job-1", progress.StageLinkDead),
	}))

	require.Equal(t, float64(2), testutil.ToFloat64(sink.pagesCrawled.WithLabelValues("2xx")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.pagesCrawled.WithLabelValues("4xx")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.brokenLinks))
}

func TestPrometheusSinkDoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
