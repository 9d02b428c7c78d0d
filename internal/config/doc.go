// Copyright 2026 TBCP Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package config 提供 TBCP 的配置管理功能。

# 概述

config 包负责应用配置的加载，按 "默认值 -> YAML 文件 -> 环境变量" 的
优先级合并。配置在启动时加载一次，迁移与监听器绑定之前完成；签名密钥与
加密密钥等敏感字段只读取一次，运行期间不再变化，也不通过任何 API 暴露。

# 核心结构

  - Config: 顶层配置聚合，涵盖 Server、Database、Redis、Security、
    Budget、Log、Telemetry、Deployment
  - Loader: 配置加载器，支持 Builder 模式链式设置文件路径、
    环境变量前缀与自定义验证器

# 主要能力

  - 多源加载: YAML 文件、环境变量（TBCP_ 前缀）、默认值
  - 配置验证: Validate 校验端口范围、必填密钥长度、部署模式枚举

# 使用示例

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    WithEnvPrefix("TBCP").
	    WithValidator((*config.Config).Validate).
	    Load()
*/
package config
