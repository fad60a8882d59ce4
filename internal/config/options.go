package config

import (
	"errors"
	"fmt"
)

type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

func (o *S3Options) Validate() []error {
	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, errors.New("s3_endpoint is required"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("s3_bucket_name is required"))
	}
	return errs
}

type KafkaOptions struct {
	Brokers []string
	Topic   string
}

func (o *KafkaOptions) Validate() []error {
	var errs []error
	if len(o.Brokers) == 0 {
		errs = append(errs, errors.New("kafka_brokers is required"))
	}
	if o.Topic == "" {
		errs = append(errs, errors.New("kafka_topic is required"))
	}
	return errs
}

type AMQPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Exchange string
	Queue    string
}

func (o *AMQPOptions) Validate() []error {
	var errs []error
	if o.Host == "" {
		errs = append(errs, errors.New("amqp_host is required"))
	}
	if o.Port <= 0 {
		errs = append(errs, fmt.Errorf("amqp_port %d is invalid", o.Port))
	}
	if o.Queue == "" {
		errs = append(errs, errors.New("amqp_queue is required"))
	}
	return errs
}

func (o *AMQPOptions) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", o.Username, o.Password, o.Host, o.Port)
}

type ClickHouseOptions struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
}

func (o *ClickHouseOptions) Validate() []error {
	if o.Addr == "" {
		return []error{errors.New("clickhouse_addr is required")}
	}
	return nil
}

func (o *ClickHouseOptions) DSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s/%s", o.Username, o.Password, o.Addr, o.Database)
}
