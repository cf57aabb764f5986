package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"moneymaker-go/config"
	"moneymaker-go/gateway"
	"moneymaker-go/posttrade"
)

// 离线成交报表：拉取已成交订单，按买卖方向汇总窗口内的成交量与均价
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	mkt := flag.String("market", "", "交易对，默认取配置中的 market")
	window := flag.Duration("window", 48*time.Hour, "回看窗口")
	asJSON := flag.Bool("json", false, "以 JSON 输出")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	name := *mkt
	if name == "" {
		name = cfg.Market
	}

	httpClient := gateway.NewDefaultHTTPClient()
	httpClient.Timeout = cfg.Gateway.Timeout()
	client := &gateway.FiriClient{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		ClientID:   cfg.Gateway.ClientID,
		Secret:     cfg.Gateway.Secret,
		HTTPClient: httpClient,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	orders, err := client.FetchFilledOrders(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "拉取成交失败: %v\n", err)
		os.Exit(1)
	}

	rep := posttrade.Summarize(orders, time.Now().UTC(), *window)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}

	fmt.Printf("%s 成交汇总 %s ~ %s\n", name, rep.From.Format(time.RFC3339), rep.To.Format(time.RFC3339))
	for _, s := range []posttrade.SideReport{rep.Bid, rep.Ask} {
		fmt.Printf("  %-4s 笔数=%d 数量=%s 成交额=%s 均价=%s 平均手续费=%s\n",
			s.Side, s.Count, s.Volume, s.Notional, s.AvgPrice, s.AvgFee)
	}
	fmt.Printf("  已实现价差=%s\n", rep.RealizedSpread)
}
