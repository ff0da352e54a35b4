package lock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"storepulse/internal/pkg/config"
	"storepulse/internal/pkg/logger"
)

// zkConn is the part of *zk.Conn the locker needs.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Delete(path string, version int32) error
}

const lockNodePrefix = "lock-"

// ZookeeperLocker serializes work across service instances with the sequential
// ephemeral node recipe: the holder is the child with the lowest sequence number,
// every waiter watches its predecessor.
type ZookeeperLocker struct {
	conn zkConn
	root string
}

// Connect opens a ZooKeeper session for the locker.
func Connect(cfg config.ZookeeperConfig) (*zk.Conn, error) {
	conn, _, err := zk.Connect(cfg.Servers, cfg.SessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	return conn, nil
}

func NewZookeeperLocker(conn zkConn, root string) (*ZookeeperLocker, error) {
	l := &ZookeeperLocker{conn: conn, root: strings.TrimRight(root, "/")}
	if err := l.ensure(l.root); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ZookeeperLocker) ensure(path string) error {
	exists, _, err := l.conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check %s", path)
	}
	if exists {
		return nil
	}
	_, err = l.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create %s", path)
	}
	return nil
}

func (l *ZookeeperLocker) Acquire(ctx context.Context, key string) (func(), error) {
	path := l.root + "/" + key
	if err := l.ensure(path); err != nil {
		return nil, err
	}
	node, err := l.conn.CreateProtectedEphemeralSequential(path+"/"+lockNodePrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, errors.Wrap(err, "create sequential node")
	}
	release := func() {
		if err := l.conn.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			logger.Ctx(ctx).Error().Err(err).Str("node", node).Msg("failed to release zookeeper lock")
		}
	}

	if err := l.wait(ctx, path, node); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (l *ZookeeperLocker) wait(ctx context.Context, path, node string) error {
	mine := strings.TrimPrefix(node, path+"/")
	for {
		children, _, err := l.conn.Children(path)
		if err != nil {
			return errors.Wrap(err, "list lock children")
		}
		sortBySequence(children)

		idx := -1
		for i, child := range children {
			if child == mine {
				idx = i
				break
			}
		}
		switch {
		case idx == 0:
			return nil
		case idx < 0:
			return fmt.Errorf("lock node %s disappeared, session probably expired", node)
		}

		exists, _, events, err := l.conn.ExistsW(path + "/" + children[idx-1])
		if err != nil {
			return errors.Wrap(err, "watch previous lock node")
		}
		if !exists {
			continue
		}
		select {
		case <-events:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Minute):
			// Re-check in case a watch event was lost on reconnect.
		}
	}
}

// sortBySequence orders lock nodes by the ZooKeeper sequence suffix. Protected node names
// start with a random GUID, so a plain string sort would not follow creation order.
func sortBySequence(children []string) {
	sort.Slice(children, func(i, j int) bool {
		return sequence(children[i]) < sequence(children[j])
	})
}

func sequence(node string) string {
	if i := strings.LastIndex(node, lockNodePrefix); i >= 0 {
		return node[i+len(lockNodePrefix):]
	}
	return node
}
