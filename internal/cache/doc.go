// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的缓存管理能力，支持键前缀、连接池、
健康检查与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，为工作流摘要存储等上层组件提供统一的
缓存读写接口。Manager 负责连接生命周期管理，包括初始化 Ping、
后台健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，所有键自动加上 KeyPrefix，
    提供 Get/Set/Delete/Ping 等基础操作，
    以及 GetJSON/SetJSON 便捷序列化方法。
  - Config：地址、密码、键前缀、默认 TTL、连接池与健康检查间隔。

# 错误语义

  - ErrCacheMiss：键不存在，使用 IsCacheMiss 判断。
  - ErrClosed：Manager 已关闭后的任何调用。
*/
package cache
