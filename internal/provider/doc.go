// 版权所有 2024 TBCP Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以是
// 在LICENSE文件中找到。

/*
包 provider 实现隐藏的上游凭据保管库：{project, provider} 到一个
AES-256-GCM 密封的上游 API key 的映射，外加非密敏的元数据（label、
是否启用、可选 base URL 覆盖）。

# 密钥派生与密封

进程级 encryption-key 在构造时经 SHA-256 派生为 32 字节 AES-256 密钥，
此后从不再次读取原始配置值。每次密封生成一个随机 nonce，与密文分列
两个数据库列存储。

# 两种读取路径

Get/List 返回的 Record 只携带掩码后的 key（保留首尾两个字符，其余替换
为星号）；只有 Resolve——代理通道 GET /api/keys 背后的路径——解密并
返回明文，且会拒绝一个被管理员禁用的 provider token，而不是静默放行。
*/
package provider
