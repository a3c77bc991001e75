package nacos

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"
)

// Fetch reads one config document.
func Fetch(cli config_client.IConfigClient, dataID, group string) (string, error) {
	content, err := cli.GetConfig(vo.ConfigParam{DataId: dataID, Group: group})
	if err != nil {
		return "", errors.Wrapf(err, "nacos get config %s/%s", group, dataID)
	}
	return content, nil
}

// Watch calls onChange with every new version of the document.
func Watch(cli config_client.IConfigClient, dataID, group string, onChange func(content string)) error {
	err := cli.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(_, _, _, data string) {
			onChange(data)
		},
	})
	return errors.Wrapf(err, "nacos listen config %s/%s", group, dataID)
}
