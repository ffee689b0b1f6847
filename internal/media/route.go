package media

// SplitDrop routes a batch of dropped or discovered files. When exactly one
// of them is a boot image it becomes boot; everything else goes to files,
// in the original order.
func SplitDrop(names []string) (boot string, files []string) {
	idx := -1
	for i, n := range names {
		if !IsBootImage(n) {
			continue
		}
		if idx >= 0 {
			idx = -1
			break
		}
		idx = i
	}
	for i, n := range names {
		if i == idx {
			boot = n
			continue
		}
		files = append(files, n)
	}
	return boot, files
}
