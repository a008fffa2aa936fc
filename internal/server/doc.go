// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package server 管理 HTTP/HTTPS 服务器的生命周期。

Manager 封装 net/http.Server：Start 非阻塞启动，Shutdown 在超时内排空
请求，WaitForShutdown 监听 SIGINT/SIGTERM。配置 MaxConnections 时监听器
经 netutil.LimitListener 限流；同时配置证书与私钥时启用 TLS 1.2+。
*/
package server
