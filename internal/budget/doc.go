// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 budget 实现代理预算的借出/花费/续期/归还状态机：

	CREATED --allocate--> READY --borrow--> LEASED --spend*--> LEASED
	                        ^                   |
	                        |                   +--return--> READY
	                        |                   +--expire--> READY
	                        +--refresh (策略触发)----+

# 排序与并发

Borrow 与 Spend 都通过 immediate 事务在同一 agent 行上串行化：两个并发
的 borrow 中恰好一个获胜，另一个看到获胜者已持有的租约，返回
conflict；两个并发的 spend 作用于同一租约时天然串行，后者看到前者已
更新的 spent 后可能转为拒绝。

# 核心类型

  - Engine：Borrow/Spend/Refresh/Return/ReclaimExpired，以及
    StartSweep 启动的后台租约回收循环。
  - Lease：租约的只读视图。

Refresh 的日/月判断按日历边界计算（UTC 午夜、每月 1 日），有别于
internal/limit 的固定时长滚动窗口——预算的分配额度按日历周期重置，
而限额窗口没有统一的锚点可供对齐日历边界。
*/
package budget
