package cli

import (
	"fmt"

	"github.com/zaqqye/relay/internal/utils"
)

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Execute(_ []string) error {
	fmt.Println(utils.BuildVersion())
	return nil
}
