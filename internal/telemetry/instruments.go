package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every server metric.
const meterName = "github.com/nupi-ai/whisper-stream-server"

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30,
}

type instruments struct {
	sessions          metric.Int64Counter
	activeSessions    metric.Int64UpDownCounter
	rejected          metric.Int64Counter
	samples           metric.Int64Counter
	inferenceDuration metric.Float64Histogram
	inferenceErrors   metric.Int64Counter
	transcripts       metric.Int64Counter
	protocolErrors    metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	inst := &instruments{}

	if inst.sessions, err = m.Int64Counter("whisper_stream.sessions",
		metric.WithDescription("Sessions admitted and upgraded."),
	); err != nil {
		return nil, err
	}
	if inst.activeSessions, err = m.Int64UpDownCounter("whisper_stream.sessions.active",
		metric.WithDescription("Sessions currently open."),
	); err != nil {
		return nil, err
	}
	if inst.rejected, err = m.Int64Counter("whisper_stream.connections.rejected",
		metric.WithDescription("Connections refused by admission control."),
	); err != nil {
		return nil, err
	}
	if inst.samples, err = m.Int64Counter("whisper_stream.audio.samples",
		metric.WithDescription("Audio samples received, by whether they were buffered."),
	); err != nil {
		return nil, err
	}
	if inst.inferenceDuration, err = m.Float64Histogram("whisper_stream.inference.duration",
		metric.WithDescription("Latency of one inference pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if inst.inferenceErrors, err = m.Int64Counter("whisper_stream.inference.errors",
		metric.WithDescription("Inference passes that failed."),
	); err != nil {
		return nil, err
	}
	if inst.transcripts, err = m.Int64Counter("whisper_stream.transcripts",
		metric.WithDescription("Transcription messages sent, by finality."),
	); err != nil {
		return nil, err
	}
	if inst.protocolErrors, err = m.Int64Counter("whisper_stream.protocol.errors",
		metric.WithDescription("Error messages sent to clients, by code."),
	); err != nil {
		return nil, err
	}
	return inst, nil
}
