// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 limit 实现管理员配置的、按 {用户, 可选项目} 维度的三个滚动窗口
上限（日 token 数、分钟请求数、月成本美分），以及预算引擎借出前咨询的
唯一读操作 would-exceed。

# 窗口滚动

窗口的「滚动」借鉴了 llm/tools 包中定长窗口限流器的重置判断方式
（到期即清零计数、推进下一个窗口边界），但落地为持久化的数据库行而非
内存计数器：WouldExceed 在一次 immediate 事务内完成「滚动 + 比较 +
（未超限时）提交增量」，使其成为一次检查即预占的原子操作，而不是纯粹
只读的探测——否则两个并发调用者可能都在「未超限」快照下各自放行。

# 核心类型

  - Enforcer：Create/Get/List/Update/Delete/WouldExceed。
  - Ceiling：三态可选 int64，用于区分「本次更新未提及该字段」与
    「本次更新把该字段清空」。
  - Ceilings／Increments：CRUD 与 would-exceed 的调用方视图。
*/
package limit
