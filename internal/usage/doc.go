// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 usage 记录不可变的用量事实（usage fact）与可选的调用轨迹
（trace），并在读取时计算聚合，而非维护物化汇总表。

# 追加

Append 在调用方已经打开的事务上写入——通常是预算引擎的 spend：
一次用量事实永远不独立于促成它的那次花费而存在，花费回滚，用量事实
也随之回滚。

# 聚合

Aggregate／ByProject／ByProvider 返回相同的形状：累计输入/输出
token、请求数、成本（整数美分）、以及按 provider 拆分的小计。未知的
project 或 provider 返回成功的全零聚合，而非 not-found——这样仪表盘
不会因为分区尚无数据而报错。所有求和使用溢出检查的 64 位有符号加法；
溢出是 integrity 错误，绝不静默回绕。

# 轨迹

Traces 按记录时间倒序返回，一行同时携带用量事实与其追踪细节。
*/
package usage
