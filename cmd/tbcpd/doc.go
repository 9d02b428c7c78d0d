// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 TBCP（Token & Budget Control Plane）服务端程序入口。

# 概述

cmd/tbcpd 是治理平面的可执行入口：签发与校验控制令牌，运行
agent 预算的 borrow/spend/refresh/return 生命周期，记录用量与调用
轨迹，并暴露由会话凭证保护的管理面 HTTP 接口。程序支持 YAML 配置
文件加载、结构化日志（zap）、OpenTelemetry 遥测以及启动前自动执行
数据库迁移。

# 核心类型

  - Server      — 主服务器，持有连接池、各治理组件及 HTTP 监听生命周期
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter — 包装 http.ResponseWriter 以捕获状态码供请求日志使用

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 两种认证通道：AdminAuth（Authorization: Bearer 会话凭证）、
    AgentAuth（X-IC-Key 控制令牌）
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、CORS
  - 后台任务：预算租约到期扫描（budget.Engine.StartSweep）
  - 优雅关闭：信号监听 → 关闭 HTTP 监听器 → 停止租约扫描、关闭 Redis
    连接与指标监听器
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
