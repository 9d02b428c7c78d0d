// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 session 为管理通道签发与校验管理员会话凭据；代理通道永远使用控制
令牌（internal/token），不使用会话凭据。

# 两种凭据

access（一小时）与 refresh（七天），都携带 subject/issuer/expiry，用
进程级签名密钥对称签名（HS256），并在 Claims 中额外携带 Kind 字段，
防止一个 access 凭据在需要 refresh 的地方被重放，反之亦然。

# 校验

签名、过期时间、issuer 三项检查；任何一项失败，一律折叠为
unauthorized，调用方无法区分具体是哪一项检查失败。

# 吊销

Refresh 凭据签发时持久化一行 AdminSession，其 RefreshTokenHash 是签名
token 全文的 HMAC-SHA256（与 internal/token 的 lookup_hash 同一思路）。
Logout 将该行标记 revoked；Refresh 本身消费并重签一对新凭据，一次
refresh 凭据只能兑现一次。
*/
package session
