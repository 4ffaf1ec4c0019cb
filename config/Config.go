package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig       RedisStorageConfig
	SqliteConfig      SqliteStorageConfig
	HttpPort          int
	StorageType       StorageType
	MaxSteps          int
	LockShards        int
	LockWaitTimeout   time.Duration
	DeliveryTimeout   time.Duration
	DelayTickSeconds  int
	DelayPollBatch    int
	GraphCacheTTL     time.Duration
	ResumeWorkerQueue int
	Debug             bool
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type SqliteStorageConfig struct {
	Path string
}
