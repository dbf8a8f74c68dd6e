package containerrt

import "github.com/google/uuid"

func newContainerID() string {
	return uuid.NewString()
}
