// Package imagegen 定义图像生成的核心契约与编排层：
// 适配器接口（构造请求 / 解析响应）、别名注册表、HTTP 执行器、
// 多密钥轮换、以及非阻塞的后台生成流水线。
//
// 各服务商适配器位于 imagegen/providers/ 子包中，全部实现
// Provider 接口；宿主只需通过 Registry 解析出适配器，
// 把 GenerationRequest 交给 Pipeline.Submit 即可。
package imagegen
