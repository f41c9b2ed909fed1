// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/replyforge/replyforge/pkg/errs"
	"github.com/replyforge/replyforge/services/orchestrator/datatypes"
)

// Key layout. The separator never appears in ids (uuids) or dedup keys are
// escaped before use.
//
//	agent/{agentId}                 -> Agent JSON
//	inbox/{inboxId}                 -> Inbox JSON
//	doc/{agentId}/{docId}           -> ContextDocument JSON
//	docidx/{agentId}/{dedupKey}     -> docId
const (
	prefixAgent  = "agent/"
	prefixInbox  = "inbox/"
	prefixDoc    = "doc/"
	prefixDocIdx = "docidx/"
)

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the store at dir. An empty dir opens an
// in-memory database, used by tests and the CLI dry-run mode.
func Open(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	slog.Info("Opened document store", "dir", dir, "in_memory", dir == "")
	return &BadgerStore{db: db}, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error { return s.db.Close() }

func docKey(agentId, docId string) []byte {
	return []byte(prefixDoc + agentId + "/" + docId)
}

func docIdxKey(agentId, dedupKey string) []byte {
	// The dedup key may contain slashes (urls); escape so prefix scans on
	// doc/{agentId}/ stay unambiguous.
	escaped := strings.ReplaceAll(dedupKey, "/", "%2F")
	return []byte(prefixDocIdx + agentId + "/" + escaped)
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// PutAgent implements Store.
func (s *BadgerStore) PutAgent(_ context.Context, agent *datatypes.Agent) error {
	if err := agent.Validate(); err != nil {
		return errs.Wrap(errs.InvalidInput, err.Error(), err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(prefixAgent+agent.Id), agent)
	})
}

// GetAgent implements Store.
func (s *BadgerStore) GetAgent(_ context.Context, agentId string) (*datatypes.Agent, error) {
	var agent datatypes.Agent
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixAgent+agentId), &agent)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.Newf(errs.NotFound, "agent %s not found", agentId)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentId, err)
	}
	return &agent, nil
}

// DeleteAgent implements Store. Document records and dedup entries are
// removed in the same transaction as the agent.
func (s *BadgerStore) DeleteAgent(_ context.Context, agentId string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixAgent + agentId)); errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Newf(errs.NotFound, "agent %s not found", agentId)
		}
		for _, prefix := range []string{prefixDoc + agentId + "/", prefixDocIdx + agentId + "/"} {
			if err := deletePrefix(txn, []byte(prefix)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(prefixAgent + agentId))
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ListAgents implements Store.
func (s *BadgerStore) ListAgents(_ context.Context) ([]*datatypes.Agent, error) {
	var agents []*datatypes.Agent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixAgent)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var agent datatypes.Agent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &agent)
			}); err != nil {
				return err
			}
			agents = append(agents, &agent)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// CreateDocument implements Store.
func (s *BadgerStore) CreateDocument(_ context.Context, doc *datatypes.ContextDocument) error {
	dedupKey := doc.DedupKey()
	if dedupKey == "" {
		return errs.Newf(errs.InvalidInput, "document %s has no filename or url", doc.Id)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		idxKey := docIdxKey(doc.AgentId, dedupKey)
		if _, err := txn.Get(idxKey); err == nil {
			return errs.Newf(errs.Conflict, "a %s document with this source already exists for the agent", doc.Type)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(idxKey, []byte(doc.Id)); err != nil {
			return err
		}
		return putJSON(txn, docKey(doc.AgentId, doc.Id), doc)
	})
	if err != nil {
		if errs.KindOf(err) == errs.Conflict {
			return err
		}
		return fmt.Errorf("create document %s: %w", doc.Id, err)
	}
	return nil
}

// UpdateDocument implements Store.
func (s *BadgerStore) UpdateDocument(_ context.Context, doc *datatypes.ContextDocument) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var prev datatypes.ContextDocument
		err := getJSON(txn, docKey(doc.AgentId, doc.Id), &prev)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Newf(errs.NotFound, "document %s not found", doc.Id)
		}
		if err != nil {
			return err
		}
		if prevKey, newKey := prev.DedupKey(), doc.DedupKey(); prevKey != newKey {
			idxKey := docIdxKey(doc.AgentId, newKey)
			if existing, err := txn.Get(idxKey); err == nil {
				var owner []byte
				if owner, err = existing.ValueCopy(nil); err != nil {
					return err
				}
				if string(owner) != doc.Id {
					return errs.Newf(errs.Conflict, "another document already claims this source")
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete(docIdxKey(doc.AgentId, prevKey)); err != nil {
				return err
			}
			if err := txn.Set(idxKey, []byte(doc.Id)); err != nil {
				return err
			}
		}
		return putJSON(txn, docKey(doc.AgentId, doc.Id), doc)
	})
}

// GetDocument implements Store.
func (s *BadgerStore) GetDocument(_ context.Context, agentId, docId string) (*datatypes.ContextDocument, error) {
	var doc datatypes.ContextDocument
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, docKey(agentId, docId), &doc)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.Newf(errs.NotFound, "document %s not found", docId)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", docId, err)
	}
	return &doc, nil
}

// DeleteDocument implements Store.
func (s *BadgerStore) DeleteDocument(_ context.Context, agentId, docId string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var doc datatypes.ContextDocument
		err := getJSON(txn, docKey(agentId, docId), &doc)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errs.Newf(errs.NotFound, "document %s not found", docId)
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(docIdxKey(agentId, doc.DedupKey())); err != nil {
			return err
		}
		return txn.Delete(docKey(agentId, docId))
	})
}

// ListDocuments implements Store.
func (s *BadgerStore) ListDocuments(_ context.Context, agentId string) ([]*datatypes.ContextDocument, error) {
	var docs []*datatypes.ContextDocument
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixDoc + agentId + "/")})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var doc datatypes.ContextDocument
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list documents for agent %s: %w", agentId, err)
	}
	return docs, nil
}

// PutInbox implements Store. The inbox is validated against the stored
// agent types before it is written.
func (s *BadgerStore) PutInbox(ctx context.Context, inbox *datatypes.Inbox) error {
	lookup := func(agentId string) (datatypes.AgentType, error) {
		agent, err := s.GetAgent(ctx, agentId)
		if err != nil {
			return "", err
		}
		return agent.AgentType, nil
	}
	if err := inbox.Validate(lookup); err != nil {
		return errs.Wrap(errs.InvalidInput, err.Error(), err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, []byte(prefixInbox+inbox.Id), inbox)
	})
}

// GetInbox implements Store.
func (s *BadgerStore) GetInbox(_ context.Context, inboxId string) (*datatypes.Inbox, error) {
	var inbox datatypes.Inbox
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixInbox+inboxId), &inbox)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.Newf(errs.NotFound, "inbox %s not found", inboxId)
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox %s: %w", inboxId, err)
	}
	return &inbox, nil
}

var _ Store = (*BadgerStore)(nil)
