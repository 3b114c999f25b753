package constants

import "time"

const (
	// 提取方式标记，记录 CandidateRecord 产生于哪条处理路径
	MethodText         = "text"
	MethodVision       = "vision"
	MethodTextFallback = "text_fallback"

	// 文本充分性判定阈值
	MinSufficientTextLen = 50  // 压缩空白后的最小字符数
	MinAlnumRatio        = 0.3 // 字母数字字符占比下限

	// 混合检索
	MinSemanticQueryLen = 3 // 残余语义查询低于该长度时退化为纯过滤排序
	DefaultSearchLimit  = 10

	// 匹配分数缓存默认TTL（秒）
	DefaultMatchCacheSeconds = 604800 // 7天
)

const (
	// Redis keys
	ParsedTextMD5SetKey  = "cv:text_md5s"  // 解析文本MD5去重集合
	QueryEmbeddingPrefix = "cv:query_vec:" // 查询向量缓存前缀

	QueryEmbeddingCacheDuration = 24 * time.Hour
	MD5RecordExpireDays         = 30
)
