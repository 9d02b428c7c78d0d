// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 token 实现控制令牌（control token）的铸造、校验、轮换与吊销——这是
代理运行时或管理员呈现给 HTTP 接口的可见密钥；隐藏的上游密钥见
internal/provider。

# 格式

固定文本前缀 `tok`，随后是角色段（代理令牌为 `_agent_`，管理员令牌
为空），随后是 40 个取自 URL 安全字母表的字符。角色段参与校验：即便
哈希恰好相同，管理员令牌与代理令牌也不可互换。

# 存储与校验

明文 body 从不落库。LookupHash 是以进程级签名密钥为键的
HMAC-SHA256，带唯一索引，用于 O(1) 定位候选行；BodyHash 是该候选行上
真正的凭据——bcrypt 哈希，用 CompareHashAndPassword 做常数时间比较。
两者都需要：bcrypt 的随机盐使其哈希本身无法作为查找键。

# 核心类型

  - Manager：Create/Validate/Rotate/Revoke/List/ListAll。
  - Record：仅含元数据的只读视图，从不携带明文。
  - Role：Validate 的调用方期望角色，防止管理员令牌在代理通道生效
    （反之亦然）。
*/
package token
