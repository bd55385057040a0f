package vulkan

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// TransitionMasks is the synchronization scope of one layout transition.
type TransitionMasks struct {
	SrcAccess driver.AccessFlags
	DstAccess driver.AccessFlags
	SrcStage  driver.PipelineStage
	DstStage  driver.PipelineStage
}

type layoutPair struct {
	old, new driver.ImageLayout
}

// Every image barrier the renderer records comes from this table.
var transitions = map[layoutPair]TransitionMasks{
	{driver.ImageLayoutUndefined, driver.ImageLayoutTransferDst}: {
		DstAccess: driver.AccessTransferWrite,
		SrcStage:  driver.PipelineStageTopOfPipe,
		DstStage:  driver.PipelineStageTransfer,
	},
	{driver.ImageLayoutTransferDst, driver.ImageLayoutShaderReadOnly}: {
		SrcAccess: driver.AccessTransferWrite,
		DstAccess: driver.AccessShaderRead,
		SrcStage:  driver.PipelineStageTransfer,
		DstStage:  driver.PipelineStageFragmentShader,
	},
	{driver.ImageLayoutUndefined, driver.ImageLayoutDepthStencilAttachment}: {
		DstAccess: driver.AccessDepthStencilAttachmentRead | driver.AccessDepthStencilAttachmentWrite,
		SrcStage:  driver.PipelineStageTopOfPipe,
		DstStage:  driver.PipelineStageEarlyFragmentTests,
	},
	{driver.ImageLayoutUndefined, driver.ImageLayoutColorAttachment}: {
		DstAccess: driver.AccessColorAttachmentRead | driver.AccessColorAttachmentWrite,
		SrcStage:  driver.PipelineStageTopOfPipe,
		DstStage:  driver.PipelineStageColorAttachmentOutput,
	},
	// mip chain and read-back
	{driver.ImageLayoutTransferDst, driver.ImageLayoutTransferSrc}: {
		SrcAccess: driver.AccessTransferWrite,
		DstAccess: driver.AccessTransferRead,
		SrcStage:  driver.PipelineStageTransfer,
		DstStage:  driver.PipelineStageTransfer,
	},
	{driver.ImageLayoutTransferSrc, driver.ImageLayoutShaderReadOnly}: {
		SrcAccess: driver.AccessTransferRead,
		DstAccess: driver.AccessShaderRead,
		SrcStage:  driver.PipelineStageTransfer,
		DstStage:  driver.PipelineStageFragmentShader,
	},
	{driver.ImageLayoutShaderReadOnly, driver.ImageLayoutTransferSrc}: {
		SrcAccess: driver.AccessShaderRead,
		DstAccess: driver.AccessTransferRead,
		SrcStage:  driver.PipelineStageFragmentShader,
		DstStage:  driver.PipelineStageTransfer,
	},
}

// LookupTransition returns the masks for old -> new or
// ErrUnsupportedTransition when the pair is not allowed.
func LookupTransition(oldLayout, newLayout driver.ImageLayout) (TransitionMasks, error) {
	masks, ok := transitions[layoutPair{oldLayout, newLayout}]
	if !ok {
		return TransitionMasks{}, errors.Wrapf(core.ErrUnsupportedTransition, "%s -> %s", oldLayout, newLayout)
	}
	return masks, nil
}

// TransitionLayout records a barrier moving levelCount mip levels of img,
// starting at baseLevel, from oldLayout to newLayout.
func (cb *CommandBuffer) TransitionLayout(img *Image, oldLayout, newLayout driver.ImageLayout, baseLevel, levelCount uint32) error {
	masks, err := LookupTransition(oldLayout, newLayout)
	if err != nil {
		core.LogError("image %s: %v", img.ID, err)
		return err
	}
	if err := cb.recording("layout transition"); err != nil {
		return err
	}
	cb.device.CmdPipelineBarrier(cb.Handle, masks.SrcStage, masks.DstStage, []driver.ImageBarrier{{
		SrcAccess: masks.SrcAccess,
		DstAccess: masks.DstAccess,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		Image:     img.Handle,
		Range: driver.ImageSubresourceRange{
			Aspect:       img.Aspect,
			BaseMipLevel: baseLevel,
			LevelCount:   levelCount,
			LayerCount:   1,
		},
	}})
	return nil
}
