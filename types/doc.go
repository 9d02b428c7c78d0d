// Copyright (c) TBCP Authors.
// Licensed under the MIT License.

/*
Package types 提供 TBCP 最底层的共享类型定义。

# 概述

types 不依赖任何内部包，为 internal/token、internal/budget、internal/limit、
internal/usage、internal/session 和 api 等上层包提供统一的错误契约，避免
循环依赖。

# 核心类型

  - Kind  — 九种领域错误类别（validation、unauthorized、forbidden、
    not-found、conflict、budget-exceeded、rate-limited、integrity、
    storage-unavailable），外加两种 HTTP 边界类别
    （unsupported-media-type、payload-too-large）
  - Error — 携带 Kind、Message、Field 与可选 Cause 的结构化错误

# 主要能力

  - 构造器：Validation / Unauthorized / Forbidden / NotFound / Conflict /
    BudgetExceeded / RateLimited / Integrity / StorageUnavailable /
    UnsupportedMedia / PayloadTooLarge
  - 链上提取：As / KindOf / Is
*/
package types
