package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

// Instance announces one gateway process in the naming service, with its gateway id in metadata.
type Instance struct {
	client  naming_client.INamingClient
	service string
	group   string
	ip      string
	port    uint64
	meta    map[string]string
}

func NewInstance(client naming_client.INamingClient, service, group, ip string, port uint64, meta map[string]string) *Instance {
	if group == "" {
		group = "DEFAULT_GROUP"
	}
	return &Instance{client: client, service: service, group: group, ip: ip, port: port, meta: meta}
}

func (i *Instance) Register() error {
	ok, err := i.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          i.ip,
		Port:        i.port,
		ServiceName: i.service,
		GroupName:   i.group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    i.meta,
	})
	if err != nil {
		return errors.Wrapf(err, "nacos register %s %s:%d", i.service, i.ip, i.port)
	}
	if !ok {
		return errors.Errorf("nacos register %s %s:%d refused", i.service, i.ip, i.port)
	}
	return nil
}

func (i *Instance) Deregister() error {
	_, err := i.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          i.ip,
		Port:        i.port,
		ServiceName: i.service,
		GroupName:   i.group,
		Ephemeral:   true,
	})
	return errors.Wrapf(err, "nacos deregister %s %s:%d", i.service, i.ip, i.port)
}
