// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库打开、连接池管理、健康检查
与事务重试能力，供运行归档（workflow/archive）使用。

# 概述

Open 根据驱动名称选择 GORM 方言（postgres、mysql，以及纯 Go 实现的
glebarez/sqlite），配置连接池并探活。PoolManager 统一管理连接生命周期，
后台健康检查定时 Ping，并可将连接数上报给 StatsRecorder。

# 核心类型

  - Driver / ParseDriver / Dialector：驱动解析与方言选择。
  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、ReportStats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲/打开连接数、连接生命周期、空闲超时与健康检查间隔。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 基于 internal/retry
做指数退避重试，仅重试死锁、序列化失败、锁超时与连接类错误。
*/
package database
