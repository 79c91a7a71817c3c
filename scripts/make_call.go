package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/harunnryd/voicedesk/pkg/configutil"
	"github.com/harunnryd/voicedesk/pkg/transports"
	"github.com/harunnryd/voicedesk/pkg/transports/twilio"
)

type transportsOnly struct {
	Transports struct {
		Settings map[string]any `mapstructure:"settings"`
	} `mapstructure:"transports"`
}

// make_call places a test call to a configured number without starting the
// engine. The engine must already be reachable at public_url.
func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}
	cfg, err := loadTwilioConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	if cfg.PublicURL == "" && *voiceURL == "" {
		fmt.Println("public_url is empty")
		os.Exit(1)
	}
	callSID, err := twilio.NewDialer(cfg).DialWithOptions(context.Background(), *to, *from, *voiceURL, transports.DialOptions{SendDigits: *sendDigits})
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}

func loadTwilioConfig(path string) (twilio.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return twilio.Config{}, err
	}
	var raw transportsOnly
	if err := v.Unmarshal(&raw); err != nil {
		return twilio.Config{}, err
	}
	var cfg twilio.Config
	if err := configutil.DecodeSettings(configutil.ExpandEnv(raw.Transports.Settings), &cfg); err != nil {
		return twilio.Config{}, err
	}
	return cfg, nil
}
