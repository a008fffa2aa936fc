// Copyright (c) Jarvis Authors.
// Licensed under the MIT License.

/*
Package persistence 提供会话历史的持久化存储。

# 概述

HistoryStore 是只追加的消息日志：Save 为记录分配严格递增的 ID，
List 按 ID 升序返回某个会话的全部记录。

# 后端

  - memory：进程内存，适合开发和测试
  - sqlite / postgres / mysql：GormHistoryStore，表 messages
  - redis：RedisHistoryStore，INCR 分配序号，RPUSH 追加 JSON
  - mongo：MongoHistoryStore，counters 集合维护序号

# 用法

	store, err := persistence.NewHistoryStore(ctx, cfg, logger)
	if err != nil {
	    return err
	}
	defer store.Close()

	rec, err := store.Save(ctx, persistence.HistoryRecord{
	    SessionID: "s1",
	    Role:      "user",
	    Content:   "hello",
	})
	records, err := store.List(ctx, "s1")
*/
package persistence
