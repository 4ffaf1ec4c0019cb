package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flowbotio/flowbot/agent"
	"github.com/flowbotio/flowbot/config"
	"github.com/flowbotio/flowbot/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "flowbot", "namespace used in storage")
	cmd.Flags().String("sqlite-path", "flowbot.db", "path of the sqlite database file")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().Int("max-steps", 100, "maximum nodes walked for a single inbound event")
	cmd.Flags().Int("lock-shards", 64, "number of shards in the contact lock table")
	cmd.Flags().Int("lock-wait-ms", 5000, "max wait to acquire a contact lock")
	cmd.Flags().Int("delivery-timeout-ms", 10000, "timeout for delivering a single outbound action")
	cmd.Flags().Int("delay-tick", 1, "delay queue poll interval in seconds")
	cmd.Flags().Int("delay-batch", 100, "max due delay tasks claimed per poll")
	cmd.Flags().Int("graph-cache-ttl", 60, "compiled graph cache ttl in seconds")
	cmd.Flags().Int("resume-queue", 512, "delay resume worker queue capacity")
	cmd.Flags().Bool("debug", false, "enable debug logging")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SqliteConfig.Path = viper.GetString("sqlite-path")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.MaxSteps = viper.GetInt("max-steps")
	c.cfg.LockShards = viper.GetInt("lock-shards")
	c.cfg.LockWaitTimeout = time.Duration(viper.GetInt("lock-wait-ms")) * time.Millisecond
	c.cfg.DeliveryTimeout = time.Duration(viper.GetInt("delivery-timeout-ms")) * time.Millisecond
	c.cfg.DelayTickSeconds = viper.GetInt("delay-tick")
	c.cfg.DelayPollBatch = viper.GetInt("delay-batch")
	c.cfg.GraphCacheTTL = time.Duration(viper.GetInt("graph-cache-ttl")) * time.Second
	c.cfg.ResumeWorkerQueue = viper.GetInt("resume-queue")
	c.cfg.Debug = viper.GetBool("debug")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	logger.Configure(c.cfg.Debug)
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowbot",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
