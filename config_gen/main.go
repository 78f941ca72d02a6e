/*
Package main in the directory config_gen implements a tool to read a cluster description from a template,
and generate the committee file, the parameters file and one key file for each node.
*/
package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gitzhang10/chainedbft/config"
	"github.com/spf13/viper"
)

func main() {
	viperRead := viper.New()
	// for environment variables
	viperRead.SetEnvPrefix("")
	viperRead.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperRead.SetEnvKeyReplacer(replacer)
	viperRead.SetConfigName("config_template")
	viperRead.AddConfigPath("./")
	err := viperRead.ReadInConfig()
	if err != nil {
		panic(err)
	}

	// IPs maps node names to hosts, peers_p2p_port maps them to ports
	ips := viperRead.GetStringMapString("IPs")
	ports := viperRead.GetStringMap("peers_p2p_port")
	if len(ips) != len(ports) {
		panic("peers_p2p_port does not match with IPs")
	}
	names := make([]string, 0, len(ips))
	for name := range ips {
		names = append(names, name)
	}
	sort.Strings(names)

	authorities := make([]config.Authority, 0, len(names))
	for _, name := range names {
		port, ok := ports[name]
		if !ok {
			panic(fmt.Sprintf("no p2p port for %s", name))
		}
		secret := config.NewSecret(name)
		if err := config.WriteSecret(fmt.Sprintf("%s.yaml", name), secret); err != nil {
			panic(err)
		}
		authorities = append(authorities, config.Authority{
			Name:      name,
			PublicKey: secret.PublicKey(),
			Address:   fmt.Sprintf("%s:%v", ips[name], port),
		})
	}
	committee, err := config.NewCommittee(authorities)
	if err != nil {
		panic(err)
	}
	if err := config.WriteCommittee("committee.yaml", committee); err != nil {
		panic(err)
	}

	// load simple parameters, falling back to the defaults
	defaults := config.DefaultParameters()
	viperRead.SetDefault("timeout_delay", defaults.TimeoutDelay.Milliseconds())
	viperRead.SetDefault("max_timeout_delay", defaults.MaxTimeoutDelay.Milliseconds())
	viperRead.SetDefault("sync_retry_delay", defaults.SyncRetryDelay.Milliseconds())
	viperRead.SetDefault("sync_retry_limit", defaults.SyncRetryLimit)
	viperRead.SetDefault("max_pool", defaults.MaxPool)
	viperRead.SetDefault("log_level", defaults.LogLevel)

	viperWrite := viper.New()
	viperWrite.SetConfigFile("parameters.yaml")
	for _, key := range []string{"timeout_delay", "max_timeout_delay", "sync_retry_delay", "sync_retry_limit",
		"max_pool", "log_level"} {
		viperWrite.Set(key, viperRead.GetInt(key))
	}
	if err := viperWrite.WriteConfig(); err != nil {
		panic(err)
	}
	fmt.Printf("generated committee of %d nodes\n", len(names))
}
