// Package ingest 实现签名上传网关：调用方用命名空间私钥对对象名签名，
// 网关按命名空间公钥校验后写入 durable bucket，并按站点配置处理已存在的对象。
package ingest
