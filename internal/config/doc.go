// Package config 负责加载交易机器人的 JSON 配置文件，并为缺省字段填充默认值。
package config
