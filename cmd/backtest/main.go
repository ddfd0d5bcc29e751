package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"grid_bot/internal/backtest"
	"grid_bot/internal/modules/exchange/service"
	"grid_bot/pkg/logger"
)

func flags() *viper.Viper {
	fs := pflag.NewFlagSet("backtest", pflag.ExitOnError)
	fs.String("symbol", "BTCUSDT", "торговая пара")
	fs.String("timeframe", "1h", "таймфрейм свечей")
	fs.Int("limit", 500, "количество свечей (не больше 1000)")
	fs.Float64("upper", 0, "верхняя граница сетки")
	fs.Float64("lower", 0, "нижняя граница сетки")
	fs.Int("grids", 10, "количество интервалов сетки")
	fs.Float64("investment", 1000, "капитал в котируемой валюте")
	fs.Float64("fee", 0.001, "комиссия за сделку")
	fs.String("base-url", "", "REST endpoint биржи")
	fs.String("log-level", "warn", "уровень логов")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

func run(ctx context.Context, v *viper.Viper) error {
	log, err := logger.New(v.GetString("log-level"), "backtest")
	if err != nil {
		return errors.Wrap(err, "logger")
	}
	defer func() { _ = log.Sync() }()

	symbol := strings.ToUpper(v.GetString("symbol"))
	client := service.NewClient(service.Config{BaseURL: v.GetString("base-url")}, log.Named("binance"))
	candles, err := client.GetCandles(ctx, symbol, v.GetString("timeframe"), v.GetInt("limit"))
	if err != nil {
		return errors.Wrap(err, "load candles")
	}
	log.Info("candles loaded", zap.String("symbol", symbol), zap.Int("count", len(candles)))

	report, err := backtest.Run(ctx, backtest.Params{
		Symbol:     symbol,
		Upper:      v.GetFloat64("upper"),
		Lower:      v.GetFloat64("lower"),
		Grids:      v.GetInt("grids"),
		Investment: v.GetFloat64("investment"),
		FeeRate:    v.GetFloat64("fee"),
	}, candles, log)
	if err != nil {
		return err
	}

	bs, err := yaml.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	fmt.Print(string(bs))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flags()); err != nil {
		fmt.Fprintln(os.Stderr, "backtest:", err)
		os.Exit(1)
	}
}
