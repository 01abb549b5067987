// Package profile 汇总站点类型（wiki、vcs、static、bucket、symbols）的默认缓存与上传策略，
// 并提供统一的注册入口。
//
// 新增站点类型时：
//  1. 在 builtin.go 或独立文件的 init() 中调用 MustRegister 注册 Profile；
//  2. 选择该类型使用的再验证协议（etag 或 last-modified）以及是否启用 durable 层；
//  3. 若站点直接以 bucket 为 origin，填写 BucketOptions 并声明上传方式。
//
// [[Site]] 配置只会覆盖 Profile 中的个别字段，合并逻辑见 Apply。
package profile
