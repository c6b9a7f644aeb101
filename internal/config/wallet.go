package config

import (
	"time"

	"github.com/spf13/viper"
)

// WalletConfig carries the wallet core's tunables. Loaded once at startup
// from the environment via viper.
type WalletConfig struct {
	WebhookSecret      string
	CheckoutBaseURL    string
	PayoutBIC          string
	PayoutDelay        time.Duration
	RecentTransactions int
	RecentWithdrawals  int
	BalanceHintTTL     time.Duration
	NotificationQueue  string
}

// LoadWalletConfig returns wallet configuration with defaults.
func LoadWalletConfig() *WalletConfig {
	viper.SetDefault("wallet.checkout_base_url", "https://pay.greenvest.example/checkout/")
	viper.SetDefault("wallet.payout_bic", "GRNVSTXX")
	viper.SetDefault("wallet.payout_delay", 24*time.Hour)
	viper.SetDefault("wallet.recent_transactions", 10)
	viper.SetDefault("wallet.recent_withdrawals", 5)
	viper.SetDefault("wallet.balance_hint_ttl", time.Minute)
	viper.SetDefault("wallet.notification_queue", "notification_queue")

	return &WalletConfig{
		WebhookSecret:      viper.GetString("wallet.webhook_secret"),
		CheckoutBaseURL:    viper.GetString("wallet.checkout_base_url"),
		PayoutBIC:          viper.GetString("wallet.payout_bic"),
		PayoutDelay:        viper.GetDuration("wallet.payout_delay"),
		RecentTransactions: viper.GetInt("wallet.recent_transactions"),
		RecentWithdrawals:  viper.GetInt("wallet.recent_withdrawals"),
		BalanceHintTTL:     viper.GetDuration("wallet.balance_hint_ttl"),
		NotificationQueue:  viper.GetString("wallet.notification_queue"),
	}
}
