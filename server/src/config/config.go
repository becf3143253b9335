package config

import (
	"encoding/json"
	"log"

	"github.com/alecthomas/kong"
)

const (
	beraberGlobalPath  = "/etc/beraber.json"
	beraberLocalPath   = "~/.config/beraber.json"
	beraberProjectPath = "./beraber.json"
)

type CLI struct {
	Config            kong.ConfigFlag `name:"config" env:"CONFIG" help:"path to a custom config file" json:"config"`
	Host              string          `name:"host" default:"" env:"HOST" help:"host name (e.g. 0.0.0.0). If left empty (= ''), listens on all IPs of the machine" json:"host"`
	Port              uint16          `name:"port" default:"3312" env:"PORT" help:"port (range from 0 to 65535) to listen on" json:"port"`
	Cert              string          `name:"cert" default:"" env:"CERT" help:"path to TLS certificate file. If none is given, plain TCP is used" json:"cert"`
	Key               string          `name:"key" default:"" env:"KEY" help:"path to TLS key corresponding to the TLS certificate. If none is given, plain TCP is used" json:"key"`
	SecretKey         string          `name:"secret-key" default:"" env:"SECRET_KEY" help:"opaque session secret, passed through to clients" json:"secret_key"`
	Production        bool            `name:"production" env:"PRODUCTION" help:"whether to run with production logging" json:"production"`
	ProxyEnabled      bool            `name:"proxy-enabled" default:"true" env:"PROXY_ENABLED" negatable:"" help:"whether to serve the media proxy endpoints" json:"proxy_enabled"`
	ProxyURL          string          `name:"proxy-url" default:"" env:"PROXY_URL" help:"base URL of the media proxy, forwarded to clients in room_state" json:"proxy_url"`
	WSURL             string          `name:"ws-url" default:"" env:"WS_URL" help:"base URL clients should use for the websocket connection" json:"ws_url"`
	APIURL            string          `name:"api-url" default:"http://127.0.0.1:3310" env:"API_URL" help:"base URL of the metadata extractor API" json:"api_url"`
	AvailabilityCheck bool            `name:"availability-check" env:"AVAILABILITY_CHECK" help:"whether resolved stream URLs are probed before use" json:"availability_check"`
	CachePath         string          `name:"cache-path" default:"./.cache/extract.db" env:"CACHE_PATH" help:"path to the extractor result cache file" json:"cache_path"`
	CacheSizeMB       int             `name:"cache-size-mb" default:"128" env:"CACHE_SIZE_MB" help:"maximum size of the HLS segment cache in MiB" json:"cache_size_mb"`
	CacheTTLSeconds   int             `name:"cache-ttl" default:"900" env:"CACHE_TTL" help:"hard TTL of cached HLS segments in seconds" json:"cache_ttl"`
	Debug             bool            `name:"debug" env:"DEBUG" help:"whether to log debugging entries" json:"debug"`
}

// Parses command arguments, environment variables and config file in case one is given.
// Order of precedence is: environment variables < config file < command arguments
func ParseCommandArgs() CLI {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("beraber server"),
		kong.Description("Run the beraber watch party synchronization server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: false,
		}),
		kong.Configuration(kong.JSON, beraberGlobalPath, beraberLocalPath, beraberProjectPath),
	)

	return cli
}

func PrintConfig(cli CLI) {
	s, _ := json.MarshalIndent(cli, "", "\t")
	log.Printf("Configurations successfully set:\n%s", string(s))
}
