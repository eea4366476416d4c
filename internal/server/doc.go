// Package server 承载 Fiber HTTP 入口：请求 ID 中间件、按 Host 查找路由表，
// 以及把命中的请求交给 ProxyHandler。诊断接口挂在 /-/ 前缀下，由 routes 子包注册。
package server
