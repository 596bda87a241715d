package accel

// The accelerator multiplexes several mappable regions behind the command
// channel. The mmap page index selects the region: a command in the high byte
// and an extended index split around it.
const (
	mmapCmdShift  = 8
	mmapIndexMask = 1<<mmapCmdShift - 1
	mmapCmdSize   = 8

	// mmapVirtioNotify selects the virtio doorbell region.
	//
	// Kernel name: MLX5_IB_MMAP_VIRTIO_NOTIFY
	mmapVirtioNotify = 9
)

// NotifyPageIndex returns the mmap page index of the doorbell page for the
// given queue group. Multiply by the host page size to get the byte offset.
func NotifyPageIndex(group int) uint64 {
	var idx uint16
	idx |= mmapVirtioNotify << mmapCmdShift
	idx |= uint16((group>>mmapCmdShift)<<(mmapCmdShift+mmapCmdSize)) | uint16(group&mmapIndexMask)
	return uint64(idx)
}
