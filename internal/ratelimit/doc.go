// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 ratelimit 实现代理通道的调用频率上限：每个控制令牌每分钟十次，
用一次 Redis INCR 加上仅在窗口首次命中时设置的 EXPIRE 实现固定窗口
计数。

Redis 不可达时 Allow 返回 rate-limited 错误而非放行——对于一个存在
目的就是保护上游 provider 花费的限流器而言，拒绝服务比悄悄放行无限
流量更安全。
*/
package ratelimit
