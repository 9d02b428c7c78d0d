// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 audit 实现追加式审计日志：每一次令牌、预算与限额生命周期事件都在
触发它的同一数据库事务内写入一行审计记录。

# 核心类型

  - Recorder：审计记录器，Record 在调用方传入的事务句柄上追加一行，
    Query 在普通（非事务）句柄上按过滤条件读取，按时间倒序返回。
  - Entry／Filter：写入与查询的调用方视图。
  - Action：固定的动作枚举，entity.verb 形式，便于前缀过滤。

# 设计要点

审计记录器本身不持有数据库连接——Record 接受调用方正在其中执行的
*gorm.DB，这样一次 borrow 若回滚，它的审计记录也随之回滚，而不会出现
「操作失败但审计说成功了」的不一致。
*/
package audit
