package services

import "github.com/sirupsen/logrus"

// guarded runs one loop iteration. A failure, however unexpected, is logged and
// confined to that iteration; no watcher loop dies because of one bad item.
func guarded(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("%s: recovered: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		logrus.Errorf("%s: %v", name, err)
	}
}
