// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package retry 提供带退避的通用重试器。

支持 fixed / linear / exponential 三种退避方式、延迟上限、随机抖动、
可重试错误过滤以及 context 取消。workflow 包的 WithRetry 中间件
基于它执行步骤上声明的 RetryPolicy。
*/
package retry
