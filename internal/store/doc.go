// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供基于 GORM 的数据库连接池管理，以及 TBCP 其余组件赖以实现
串行化的两种事务模式。

# 概述

本包通过 PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理
连接生命周期、空闲回收与最大连接数限制。后台健康检查定时探活，异常时
通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，持有普通句柄与 immediate 句柄，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。
  - models.go 中的 GORM 模型：User、Project、Agent、ControlToken、
    ProviderToken、AgentBudget、BudgetLease、LimitRecord、UsageRecord、
    TraceRecord、AuditEntry、AdminSession，一一对应迁移文件中的
    tbcp_ 前缀表。

# 主要能力

  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：后台定时 PingContext 探活，输出连接数与空闲数。
  - 事务管理：WithTransaction 提供普通事务；WithImmediateTransaction
    提供写锁前置的事务，避免读者升级为写者造成的死锁；
    WithTransactionRetry 在普通事务之上加入指数退避重试（immediate
    事务不重试）。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package store
