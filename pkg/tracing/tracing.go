package tracing

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
	"go.uber.org/zap"
)

type Config struct {
	ServiceName string
	Host        string
	Port        int
}

// InitTracer jaeger-трейсер с константным сэмплером. Глобальный трейсер не трогается.
func InitTracer(conf Config, log *zap.Logger) (opentracing.Tracer, func(), error) {
	cfg := &jCfg.Configuration{
		ServiceName: conf.ServiceName,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	jMetricsFactory := metrics.NullFactory
	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(jMetricsFactory),
	)
	if err != nil {
		return nil, nil, err
	}

	return tracer, closeFunc(closer, log), nil
}

func closeFunc(closer io.Closer, log *zap.Logger) func() {
	return func() {
		if err := closer.Close(); err != nil {
			log.Error("error closing jaeger tracer", zap.Error(err))
		}
	}
}
