package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"moneymaker-go/config"
	"moneymaker-go/gateway"
)

// 紧急撤单：撤销指定交易对的全部挂单并打印剩余挂单
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	mkt := flag.String("market", "", "交易对，默认取配置中的 market")
	timeout := flag.Duration("timeout", 15*time.Second, "整体超时")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.Secret == "" {
		log.Fatal("需要 MM_GATEWAY_API_KEY、MM_GATEWAY_CLIENT_ID 和 MM_GATEWAY_SECRET")
	}
	name := *mkt
	if name == "" {
		name = cfg.Market
	}

	client := &gateway.FiriClient{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		ClientID:   cfg.Gateway.ClientID,
		Secret:     cfg.Gateway.Secret,
		HTTPClient: gateway.NewDefaultHTTPClient(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("撤销 %s 全部挂单...\n", name)
	if err := client.CancelAllOrders(ctx, name); err != nil {
		log.Fatalf("撤单失败: %v", err)
	}
	fmt.Println("撤单请求已提交")

	orders, err := client.FetchActiveOrders(ctx, name)
	if err != nil {
		log.Fatalf("查询挂单失败: %v", err)
	}
	fmt.Printf("剩余挂单: %d\n", len(orders))
	for _, o := range orders {
		fmt.Printf("  #%d %s %s @ %s\n", o.ID, o.Side, o.Amount, o.Price)
	}
}
