package main

import (
	"fmt"
	"time"

	"ratecache/pkg/cache"
)

func main() {
	c, err := cache.NewLRUCache(cache.Config{MaxSize: 4, TTL: 10 * time.Second})
	if err != nil {
		panic(err)
	}

	base := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

	// 首次访问全部未命中并登记
	fmt.Println("=== 首次访问测试 ===")
	keys := []cache.Key{101, 102, 103}
	for i, o := range c.Lookup(keys, base) {
		fmt.Printf("%d: %v\n", keys[i], o)
	}

	// TTL内二次访问应全部命中
	fmt.Println("\n=== TTL内访问测试 ===")
	for i, o := range c.Lookup(keys, base.Add(5*time.Second)) {
		fmt.Printf("%d: %v\n", keys[i], o)
	}

	// 超过TTL后应判定为过期并重置时间戳
	fmt.Println("\n=== TTL过期测试 ===")
	for i, o := range c.Lookup(keys, base.Add(11*time.Second)) {
		fmt.Printf("%d: %v\n", keys[i], o)
	}

	// 容量满后插入新键应触发LRU淘汰
	fmt.Println("\n=== LRU淘汰测试 ===")
	c.Lookup([]cache.Key{104, 105}, base.Add(12*time.Second))
	stats := c.Stats()
	fmt.Printf("size=%d evictions=%d expirations=%d\n", c.Size(), stats.Evictions, stats.Expirations)
}
