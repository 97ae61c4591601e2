// Package plugin 负责插件的发现、加载与注册。
//
// 插件有两种来源，可以组合使用：
//  1. 搜索路径中的插件目录，目录内可放置 plugin.{toml,yaml,yml,json} 描述文件，
//     以 [[heads]] 与 [tests.<name>] 声明 head 模板，以 picker 声明实例选择表达式；
//  2. 通过本包 Register/MustRegister 在 init() 中注册的 Go 模块，用代码构建 head。
//
// 搜索路径按优先级从低到高排列，同名插件以最后一个包含它的目录为准。
package plugin
