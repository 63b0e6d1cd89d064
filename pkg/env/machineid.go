package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// AppID keys the protected machine ID.
const AppID = "lenlab"

// MachineID retrieves a stable ID identifying the machine. The raw
// machine ID is not exposed; it is hashed with AppID. The host name is
// used where no machine ID exists.
func MachineID() string {
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		glog.Warningf("machine id: %v", err)
		host, _ := os.Hostname()
		return host
	}
	return id[:12]
}
