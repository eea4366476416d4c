// Package routes 注册 /-/ 前缀下的诊断接口：状态快照、Prometheus 指标、
// 向 worker 投递消息以及天气查询。
package routes
