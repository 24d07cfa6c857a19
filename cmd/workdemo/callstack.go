package workdemo

var workAmount = 50000000

// Root runs a fixed chain of busy functions so a CPU profile of it has a
// known call graph: Root -> CallStackOne -> CallStackTwo -> CallStackThree
// -> CallStackFour. Inlining is disabled so every frame shows up in the
// profile.
//
//go:noinline
func Root() int {
	return CallStackOne(0)
}

//go:noinline
func CallStackOne(count int) int {
	count = spin(count)
	return CallStackTwo(count)
}

//go:noinline
func CallStackTwo(count int) int {
	count = spin(count)
	return CallStackThree(count)
}

//go:noinline
func CallStackThree(count int) int {
	count = spin(count)
	return CallStackFour(count)
}

//go:noinline
func CallStackFour(count int) int {
	return spin(count)
}

//go:noinline
func spin(count int) int {
	for i := 0; i < workAmount; i++ {
		count += i
		if i%2 == 0 {
			count = count / 2
		}
	}
	return count
}
