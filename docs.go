// Package archive 企业微信会话存档：消息同步与媒体归档引擎
// @title WeCom Chat Archive API
// @version 1.0
// @description 会话存档的同步任务、群/成员/消息查询与媒体重试接口
// @description
// @description ## 业务状态码说明
// @description | Code | 说明 |
// @description |------|------|
// @description | 0 | 成功 |
// @description | 10001 | 参数错误 |
// @description | 10002 | 资源不存在 |
// @description | 10003 | 同范围已有同步任务在运行 |
// @description | 10004 | 状态不允许该操作 |
// @description | 99999 | 内部错误 |
// @description
// @description ## 响应格式
// @description 所有接口统一返回格式：
// @description ```json
// @description {
// @description   "code": 0,
// @description   "msg": "success",
// @description   "data": {}
// @description }
// @description ```
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
package archive
