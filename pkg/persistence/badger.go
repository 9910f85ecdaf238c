package persistence

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// BadgerService 基于 Badger 的持久化服务
// 与 JSONFileService 共享同一个 Store 抽象，用于需要事务性写入的状态
// （例如跟单游标：必须保证“已调度”先于“游标推进”落盘）
type BadgerService struct {
	db *badger.DB
}

// OpenBadger 打开 Badger 数据库
func OpenBadger(dir string) (*BadgerService, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("persistence: badger dir is required")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerService{db: db}, nil
}

// Close 关闭数据库
func (s *BadgerService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewStore 创建新的存储
func (s *BadgerService) NewStore(prefix, id, tag string) Store {
	key := fmt.Sprintf("%s:%s:%s", prefix, id, tag)
	return &BadgerStore{
		db:  s.db,
		key: []byte(key),
	}
}

// BadgerStore Badger 存储实现（单 key，JSON 编码）
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// Save 保存数据（单事务写入）
func (s *BadgerStore) Save(data interface{}) error {
	if s == nil || s.db == nil {
		return errors.New("persistence: badger not opened")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, b)
	})
}

// Load 加载数据
func (s *BadgerStore) Load(data interface{}) error {
	if s == nil || s.db == nil {
		return errors.New("persistence: badger not opened")
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotExists
			}
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append(raw[:0], val...)
			return nil
		})
	})
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(raw, data)
}
