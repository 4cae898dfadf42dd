package vulkan

import "sync"

type LockGroup string

const (
	CommandPoolManagement LockGroup = "command_pool_management"
	DescriptorManagement  LockGroup = "descriptor_management"
	QueueManagement       LockGroup = "queue_management"
)

// lockPool serializes access to externally synchronized Vulkan objects: the command pool,
// descriptor pools and the queues. Recording happens on the render goroutine while uploads
// from loader jobs go through SubmitAndWait.
type lockPool struct {
	mu    sync.Mutex
	locks map[LockGroup]*sync.Mutex

	queueMutexes map[uint32]*sync.Mutex
}

func newLockPool() *lockPool {
	return &lockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *lockPool) group(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	l, ok := lp.locks[group]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

func (lp *lockPool) queue(index uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	l, ok := lp.queueMutexes[index]
	if !ok {
		l = &sync.Mutex{}
		lp.queueMutexes[index] = l
	}
	return l
}

func (lp *lockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.group(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeQueueCall runs fn holding the lock of one queue family. Present and graphics share a
// lock when they share a family.
func (lp *lockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	l := lp.queue(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()
	return fn()
}
