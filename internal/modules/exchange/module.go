package exchange

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/exchange/service"
)

func NewGateway(cfg *config.Config, log *zap.Logger) models.Gateway {
	ex := cfg.Exchange
	client := service.NewClient(service.Config{
		BaseURL:    ex.BaseURL,
		APIKey:     ex.APIKey,
		APISecret:  ex.APISecret,
		RecvWindow: ex.RecvWindow,
		Timeout:    ex.Timeout,
	}, log.Named("binance"))

	if ex.Name != config.ExchangePaper {
		return client
	}
	var quotes models.Gateway
	if ex.PaperLive {
		quotes = client
	}
	log.Info("paper exchange", zap.Bool("live_quotes", ex.PaperLive), zap.Float64("fee_rate", ex.FeeRate))
	return service.NewPaper(quotes, ex.FeeRate, ex.PaperBalances)
}

// NewPriceStream nil, если стрим выключен. Для paper цены стрима идут и в симулятор,
// иначе он не знает, по какой цене исполнять ордера.
func NewPriceStream(lc fx.Lifecycle, cfg *config.Config, gw models.Gateway, log *zap.Logger) *service.PriceStream {
	if !cfg.Exchange.Stream {
		return nil
	}
	stream := service.NewPriceStream(cfg.Exchange.WSURL, log.Named("price_stream"))
	if paper, ok := gw.(*service.Paper); ok {
		stream.OnPrice(paper.SetPrice)
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, s.Symbol)
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go stream.Run(ctx, symbols)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return stream
}

func Module() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			NewGateway,
			NewPriceStream,
		),
	)
}
